package objectstore

import (
	"path/filepath"
	"strings"
)

// binaryExtensions is the fixed extension list identifying binary content
// (spec §4.2: "binary files are identified by a fixed extension list").
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".ico": true, ".bmp": true, ".tiff": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".tgz": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".webm": true,
	".wasm": true, ".so": true, ".dylib": true, ".dll": true, ".node": true,
	".db": true, ".sqlite": true, ".sqlite3": true,
}

// IsBinaryPath reports whether path should be treated as binary content
// based on its extension, shared by the object store and the sandbox file
// operations (both need the identical classification to frame base64
// correctly — spec §4.2, §4.6).
func IsBinaryPath(path string) bool {
	return binaryExtensions[strings.ToLower(filepath.Ext(path))]
}
