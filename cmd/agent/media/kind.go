package media

import (
	"path"
	"strings"
)

// Media kinds carried on upload tasks
const (
	KindImage = "image"
	KindVideo = "video"
	KindAudio = "audio"
)

var extKinds = map[string]string{
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".webp": KindImage,
	".bmp":  KindImage,
	".mp4":  KindVideo,
	".webm": KindVideo,
	".mov":  KindVideo,
	".mp3":  KindAudio,
	".wav":  KindAudio,
	".ogg":  KindAudio,
	".flac": KindAudio,
	".m4a":  KindAudio,
}

// KindFor infers the media kind from a filename extension. Unknown
// extensions default to image, which is what the engine emits most.
func KindFor(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if k, ok := extKinds[ext]; ok {
		return k
	}
	return KindImage
}
