package auth

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestValidateToken(t *testing.T) {
	am := NewAuthManager()
	am.RegisterToken("Bearer abc", "ui")

	assert.True(t, am.ValidateToken("abc"))
	assert.True(t, am.ValidateToken("Bearer abc"))
	assert.False(t, am.ValidateToken(""))
	assert.False(t, am.ValidateToken("other"))

	am.RemoveToken("abc")
	assert.False(t, am.ValidateToken("abc"))
}

func TestInitFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("auth.tokens", []string{"T1"})

	assert.NoError(t, Init())
	assert.True(t, A().ValidateToken("Bearer T1"))
}
