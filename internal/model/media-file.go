package model

// MediaFile is an uploaded or inlined file resolved to its bytes.
type MediaFile struct {
	Name string
	MIME string
	Data []byte
}
