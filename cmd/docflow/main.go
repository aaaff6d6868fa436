// Command docflow runs the legal document pipeline over a case directory:
// originals are filed, renamed, OCR-cleaned, converted to page-marked text,
// formatted, uploaded and verified.
package main

import (
	"errors"
	"os"

	"github.com/Lllllllleong/legaldocflow/internal/pipeline"
)

// Set at build time with -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, pipeline.ErrSetup) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
