package session

import (
	"crypto/rand"
	"encoding/base64"
)

// mintToken returns a URL-safe, unguessable share token. 32 bytes of
// entropy; the token is the only access control viewers have.
func mintToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// the system RNG failing is not something we can recover from
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
