//go:build !(linux && (amd64 || arm64 || arm))

package devices

func hostPlatform() Platform {
	return Platform{}
}
