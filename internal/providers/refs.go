package providers

import (
	"errors"
	"fmt"
	"strings"
)

// UploadsURLPrefix is where uploaded and generated images are served from.
// Transformers only read images stored there.
const UploadsURLPrefix = "/static/uploads/"

var ErrInvalidImageRef = errors.New("image must be an uploaded image")

// UploadName returns the file name behind an uploads URL. Anything else,
// including paths that would leave the uploads directory, is rejected.
func UploadName(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, UploadsURLPrefix)
	if !ok || name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidImageRef, ref)
	}
	return name, nil
}
