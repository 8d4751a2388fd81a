// Package lang classifies repository files by programming language.
package lang

import (
	"path"
	"sort"
	"strings"
)

// Tag identifies a programming language.
type Tag string

const (
	Python     Tag = "python"
	JavaScript Tag = "javascript"
	TypeScript Tag = "typescript"
	JSX        Tag = "jsx"
	TSX        Tag = "tsx"
	Java       Tag = "java"
	CSharp     Tag = "csharp"
	CPP        Tag = "cpp"
	C          Tag = "c"
	Go         Tag = "go"
	Rust       Tag = "rust"
	Ruby       Tag = "ruby"
	PHP        Tag = "php"
	Swift      Tag = "swift"
	Kotlin     Tag = "kotlin"
	Scala      Tag = "scala"

	// Unknown is returned for files whose extension is not in the table.
	Unknown Tag = "unknown"
)

// extensions is the single source of truth for classification.
var extensions = map[string]Tag{
	".py":    Python,
	".js":    JavaScript,
	".mjs":   JavaScript,
	".cjs":   JavaScript,
	".ts":    TypeScript,
	".mts":   TypeScript,
	".cts":   TypeScript,
	".jsx":   JSX,
	".tsx":   TSX,
	".java":  Java,
	".cs":    CSharp,
	".cpp":   CPP,
	".cc":    CPP,
	".cxx":   CPP,
	".hpp":   CPP,
	".hh":    CPP,
	".c":     C,
	".h":     C,
	".go":    Go,
	".rs":    Rust,
	".rb":    Ruby,
	".php":   PHP,
	".swift": Swift,
	".kt":    Kotlin,
	".kts":   Kotlin,
	".scala": Scala,
	".sc":    Scala,
}

// Classify returns the language of a file path based on its extension.
// Both / and \ are accepted as separators. Extension matching is
// case-insensitive.
func Classify(filePath string) Tag {
	ext := strings.ToLower(path.Ext(baseName(filePath)))
	if tag, ok := extensions[ext]; ok {
		return tag
	}
	return Unknown
}

// Known reports whether the file's extension maps to a language.
func Known(filePath string) bool {
	return Classify(filePath) != Unknown
}

func baseName(filePath string) string {
	filePath = strings.ReplaceAll(filePath, `\`, "/")
	return path.Base(filePath)
}

// Map groups files by language. Every file appears under exactly one tag.
type Map map[Tag][]string

// Partition groups files by their classified language, preserving input
// order within each group.
func Partition(files []string) Map {
	m := make(Map)
	for _, f := range files {
		tag := Classify(f)
		m[tag] = append(m[tag], f)
	}
	return m
}

// Tags returns the languages present in the map in sorted order.
func (m Map) Tags() []Tag {
	tags := make([]Tag, 0, len(m))
	for tag := range m {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Support describes one language and the extensions that map to it.
type Support struct {
	Name       Tag
	Extensions []string
}

// Supported returns all classified languages with their extensions, sorted
// by language name.
func Supported() []Support {
	byTag := make(map[Tag][]string)
	for ext, tag := range extensions {
		byTag[tag] = append(byTag[tag], ext)
	}

	languages := make([]Support, 0, len(byTag))
	for tag, exts := range byTag {
		sort.Strings(exts)
		languages = append(languages, Support{Name: tag, Extensions: exts})
	}
	sort.Slice(languages, func(i, j int) bool { return languages[i].Name < languages[j].Name })
	return languages
}
