// Package vpath maps virtual, forward-slash paths rooted at "/" onto real
// filesystem paths rooted at a configured directory, and validates names
// crossing that boundary.
package vpath

import (
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSegmentLen = 255

var reservedDeviceNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

const invalidNameChars = `<>:"/\|?*`

// Normalize puts a virtual path into canonical form: forward slashes,
// NFC-normalized, no trailing slash (except the root itself).
func Normalize(p string) string {
	p = norm.NFC.String(p)
	p = filepath.ToSlash(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	return p
}

// Mapper resolves virtual paths against a real root directory.
type Mapper struct {
	root string
}

// NewMapper creates a Mapper rooted at root, which must be an absolute,
// symlink-resolved real directory.
func NewMapper(root string) *Mapper {
	return &Mapper{root: filepath.Clean(root)}
}

// Root returns the real root directory.
func (m *Mapper) Root() string {
	return m.root
}

// AddFilesPath joins the root with a virtual path and clamps the result to
// stay within the root: if the cleaned, symlink-resolved result would
// escape the root, the root itself is returned rather than an error.
func (m *Mapper) AddFilesPath(virtual string) string {
	virtual = Normalize(virtual)
	if virtual == "/" {
		return m.root
	}
	real := filepath.Join(m.root, filepath.FromSlash(strings.TrimPrefix(virtual, "/")))

	resolved, err := filepath.EvalSymlinks(real)
	if err != nil {
		// Path may not exist yet (e.g. about to be created); fall back to
		// the lexical join, still checked for containment below.
		resolved = filepath.Clean(real)
	}

	if resolved != m.root && !strings.HasPrefix(resolved, m.root+string(filepath.Separator)) {
		return m.root
	}
	return real
}

// RemoveFilesPath strips the root prefix from a real path, returning the
// virtual path. A real path equal to the root maps to "/".
func (m *Mapper) RemoveFilesPath(real string) string {
	real = filepath.Clean(real)
	if real == m.root {
		return "/"
	}
	rel := strings.TrimPrefix(real, m.root+string(filepath.Separator))
	return Normalize(filepath.ToSlash(rel))
}

// IsPathSane validates every segment of p. When isURL is true, additional
// URL-form restrictions apply: no ".." segment anywhere, and every
// character must come from the RFC 3986 unreserved/reserved subset.
func IsPathSane(p string, isURL bool) bool {
	if isURL && strings.Contains(p, "..") {
		for _, seg := range strings.Split(path.Clean("/"+p), "/") {
			if seg == ".." {
				return false
			}
		}
	}
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if !isSegmentSane(seg) {
			return false
		}
		if isURL && !isURLSafe(seg) {
			return false
		}
	}
	return true
}

func isSegmentSane(seg string) bool {
	if seg == "." || seg == ".." {
		return false
	}
	if len(seg) > maxSegmentLen {
		return false
	}
	for _, r := range seg {
		if r <= 0x1F || strings.ContainsRune(invalidNameChars, r) {
			return false
		}
	}
	base := seg
	if idx := strings.IndexByte(base, '.'); idx >= 0 {
		base = base[:idx]
	}
	if _, reserved := reservedDeviceNames[strings.ToLower(base)]; reserved {
		return false
	}
	return true
}

func isURLSafe(seg string) bool {
	for _, r := range seg {
		switch {
		case r < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
		case strings.ContainsRune("-._~:/?#[]@!$&'()*+,;=%", r):
		default:
			return false
		}
	}
	return true
}

// NaturalSort reports whether a should sort before b using natural order:
// runs of digits compare numerically, other runs compare lexicographically.
func NaturalSort(a, b string) bool {
	ar, br := splitRuns(a), splitRuns(b)
	for i := 0; i < len(ar) && i < len(br); i++ {
		if ar[i] == br[i] {
			continue
		}
		aNum, aIsNum := asNumber(ar[i])
		bNum, bIsNum := asNumber(br[i])
		if aIsNum && bIsNum {
			return aNum < bNum
		}
		return ar[i] < br[i]
	}
	return len(ar) < len(br)
}

func splitRuns(s string) []string {
	var runs []string
	var cur strings.Builder
	var curIsDigit bool
	for i, r := range s {
		isDigit := r >= '0' && r <= '9'
		if i > 0 && isDigit != curIsDigit {
			runs = append(runs, cur.String())
			cur.Reset()
		}
		cur.WriteRune(r)
		curIsDigit = isDigit
	}
	if cur.Len() > 0 {
		runs = append(runs, cur.String())
	}
	return runs
}

func asNumber(run string) (int64, bool) {
	if run == "" || run[0] < '0' || run[0] > '9' {
		return 0, false
	}
	var n int64
	for _, r := range run {
		n = n*10 + int64(r-'0')
	}
	return n, true
}

// CountOccurences counts non-overlapping occurrences of sub in s.
func CountOccurences(s, sub string) int {
	if sub == "" {
		return 0
	}
	count := 0
	for {
		idx := strings.Index(s, sub)
		if idx < 0 {
			return count
		}
		count++
		s = s[idx+len(sub):]
	}
}

// Dir returns the virtual parent path of p ("/" has no parent).
func Dir(p string) string {
	if p == "/" {
		return "/"
	}
	d := path.Dir(p)
	if d == "." {
		return "/"
	}
	return d
}

// Base returns the final segment of a virtual path.
func Base(p string) string {
	return path.Base(p)
}

// Join joins a virtual directory path with a child name.
func Join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

const uploadSuffix = ".droppy-upload"

// AddUploadSuffix appends the in-flight upload marker after the first
// dot-delimited segment of the filename, e.g. "photo.jpg" becomes
// "photo.droppy-upload.jpg".
func AddUploadSuffix(p string) string {
	dir := Dir(p)
	name := Base(p)
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		name = name[:idx] + uploadSuffix + name[idx:]
	} else {
		name += uploadSuffix
	}
	return Join(dir, name)
}

// StripUploadSuffix removes the in-flight upload marker, if present.
func StripUploadSuffix(p string) string {
	return strings.Replace(p, uploadSuffix, "", 1)
}
