package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyOpts(t *testing.T) {
	// Let's make sure we don't panic on nil options
	anonymousOpts := struct {
		Names []string
	}{
		nil,
	}
	ApplyOpts(anonymousOpts, nil)
}

func Test_WithNow(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	now := func() time.Time { return fixed }

	cOpts := getConfigOpts(WithNow(now))
	assert.Equal(fixed, cOpts.withNowFunc())

	tOpts := getTokenOpts(WithNow(now))
	assert.Equal(fixed, tOpts.withNowFunc())

	rOpts := getReqOpts(WithNow(now))
	assert.Equal(fixed, rOpts.withNowFunc())

	// a nil func leaves the default in place
	rOpts = getReqOpts(WithNow(nil))
	assert.Nil(rOpts.withNowFunc)
}

func Test_WithScopesAndAudiences(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	cOpts := getConfigOpts(WithScopes("email", "profile"), WithAudiences("reports"))
	assert.Equal([]string{"email", "profile"}, cOpts.withScopes)
	assert.Equal([]string{"reports"}, cOpts.withAudiences)

	rOpts := getReqOpts(WithScopes("roles"), WithAudiences("account"))
	assert.Equal([]string{"roles"}, rOpts.withScopes)
	assert.Equal([]string{"account"}, rOpts.withAudiences)

	// options for other types are ignored
	tOpts := getTokenOpts(WithScopes("email"))
	assert.Equal(tokenDefaults(), tOpts)
}
