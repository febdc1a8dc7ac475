//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newRenderer() (Renderer, error) {
	return bildRenderer{}, nil
}

// RendererName reports which backend newRenderer builds.
func RendererName() string {
	return "bild"
}
