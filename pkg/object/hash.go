package object

import "crypto/sha1"

// HashBody computes the ID of a canonical body: the SHA-1 of the
// "type len\0body" envelope, mirroring Git's object naming.
func HashBody(t Type, body []byte) ID {
	h := sha1.New()
	h.Write(makeEnvelope(t, body))
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// HashOf encodes obj and computes its ID.
func HashOf(obj Object) (ID, error) {
	body, err := Encode(obj)
	if err != nil {
		return ZeroID, err
	}
	return HashBody(obj.Kind(), body), nil
}
