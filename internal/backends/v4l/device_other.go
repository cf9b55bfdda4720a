//go:build !(linux && (amd64 || arm64 || arm))

package v4l

// NewOpener returns an Opener that always fails with ErrUnsupported.
func NewOpener([]string) Opener {
	return func(int) (Device, error) {
		return nil, ErrUnsupported
	}
}
