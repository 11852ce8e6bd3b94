package batchqueue_test

import (
	"testing"

	"github.com/rainmanjam/social-flood-sub000/pkg/batchqueue"
	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	t.Run("order independent", func(t *testing.T) {
		a := batchqueue.Fingerprint("kw", map[string]string{"geo": "US", "lang": "en"})
		b := batchqueue.Fingerprint("kw", map[string]string{"lang": "en", "geo": "US"})
		assert.Equal(t, a, b)
	})

	t.Run("request type is part of the identity", func(t *testing.T) {
		a := batchqueue.Fingerprint("kw", map[string]string{"geo": "US"})
		b := batchqueue.Fingerprint("trends", map[string]string{"geo": "US"})
		assert.NotEqual(t, a, b)
	})

	t.Run("values are not confusable across keys", func(t *testing.T) {
		a := batchqueue.Fingerprint("kw", map[string]string{"a": "bc"})
		b := batchqueue.Fingerprint("kw", map[string]string{"ab": "c"})
		assert.NotEqual(t, a, b)
	})
}
