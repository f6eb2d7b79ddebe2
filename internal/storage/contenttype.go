package storage

import (
	"mime"
	"path/filepath"
	"strings"
)

// Media types the system mime database commonly lacks.
var mediaTypes = map[string]string{
	".3g2":  "video/3gpp2",
	".3gp":  "video/3gpp",
	".amv":  "video/x-amv",
	".asf":  "video/x-ms-asf",
	".avi":  "video/x-msvideo",
	".divx": "video/x-msvideo",
	".f4v":  "video/mp4",
	".flv":  "video/x-flv",
	".gif":  "image/gif",
	".h264": "video/h264",
	".m2ts": "video/mp2t",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".mts":  "video/mp2t",
	".mxf":  "application/mxf",
	".nut":  "video/x-nut",
	".ogv":  "video/ogg",
	".rm":   "application/vnd.rn-realmedia",
	".rmvb": "application/vnd.rn-realmedia-vbr",
	".swf":  "application/x-shockwave-flash",
	".ts":   "video/mp2t",
	".vob":  "video/dvd",
	".webm": "video/webm",
	".wmv":  "video/x-ms-wmv",
	".log":  "text/plain; charset=utf-8",
}

// ContentType infers a content type from a file name's extension, falling
// back to application/octet-stream.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
