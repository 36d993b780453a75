package enroll

import (
	"path/filepath"
	"strings"
)

// ParseLabel derives the identity label and the optional roll number from a reference
// image filename. "Bob(22CS01).jpg" gives ("Bob(22CS01)", "22CS01").
// The roll number sits between the first "(" and the last ")".
func ParseLabel(filename string) (label, roll string) {
	base := filepath.Base(filename)
	label = strings.TrimSuffix(base, filepath.Ext(base))

	open := strings.Index(label, "(")
	closing := strings.LastIndex(label, ")")
	if open >= 0 && closing > open {
		roll = strings.TrimSpace(label[open+1 : closing])
	}
	return label, roll
}

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

func isReferenceImage(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return imageExts[strings.ToLower(filepath.Ext(name))]
}
