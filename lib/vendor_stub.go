//go:build !(mcm301 && cgo)

package lib

// OpenVendor returns ErrVendorUnavailable. Build with -tags mcm301 and cgo
// enabled to link the vendor command library.
func OpenVendor() (Library, error) {
	return nil, ErrVendorUnavailable
}
