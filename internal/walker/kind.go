package walker

import (
	"path/filepath"
	"strings"
)

// Kind classifies a site asset.
type Kind string

const (
	KindUnknown  Kind = ""
	KindDocument Kind = "document"
	KindManifest Kind = "manifest"
	KindStyle    Kind = "style"
	KindScript   Kind = "script"
	KindData     Kind = "data"
	KindImage    Kind = "image"
	KindFont     Kind = "font"
)

// extensionToKind maps file extensions to asset kinds.
var extensionToKind = map[string]Kind{
	".html":        KindDocument,
	".htm":         KindDocument,
	".css":         KindStyle,
	".js":          KindScript,
	".mjs":         KindScript,
	".json":        KindData,
	".webmanifest": KindManifest,
	".png":         KindImage,
	".jpg":         KindImage,
	".jpeg":        KindImage,
	".gif":         KindImage,
	".svg":         KindImage,
	".webp":        KindImage,
	".ico":         KindImage,
	".woff":        KindFont,
	".woff2":       KindFont,
	".ttf":         KindFont,
}

// filenameToKind maps specific filenames to kinds, ahead of extensions.
var filenameToKind = map[string]Kind{
	"manifest.json": KindManifest,
}

// DetectKind returns the asset kind of a file name based on its exact name
// or extension. Files of no known kind are not site assets.
func DetectKind(filename string) Kind {
	base := filepath.Base(filename)
	if kind, ok := filenameToKind[strings.ToLower(base)]; ok {
		return kind
	}
	return extensionToKind[strings.ToLower(filepath.Ext(base))]
}

func (k Kind) priority() int {
	switch k {
	case KindDocument:
		return 0
	case KindStyle, KindScript, KindManifest:
		return 1
	case KindData:
		return 2
	default:
		return 3
	}
}
