package testing

import (
	"errors"
	"strings"
)

// WithFiles pre-populates the mock filesystem with files.
// Keys are paths, values are file contents.
func WithFiles(client *MockClient, files map[string]string) {
	for p, content := range files {
		_ = client.GetFS().WriteFile(p, []byte(content))
	}
}

// WithDirs pre-populates the mock filesystem with directories.
func WithDirs(client *MockClient, dirs []string) {
	for _, dir := range dirs {
		_ = client.GetFS().MkdirAll(dir)
	}
}

// WithLinks pre-populates the mock filesystem with symlinks (link -> target).
func WithLinks(client *MockClient, links map[string]string) {
	for link, target := range links {
		_ = client.GetFS().Symlink(target, link)
	}
}

// SplitCommand tokenizes a command line the way a POSIX shell splits words:
// single quotes are literal, double quotes allow backslash escapes, and
// unquoted backslashes escape the next byte. Operators are not interpreted.
func SplitCommand(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		inS     bool
		inD     bool
		escaped bool
	)

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case inS:
			if c == '\'' {
				inS = false
			} else {
				cur.WriteByte(c)
			}
		case inD:
			switch {
			case c == '"':
				inD = false
			case c == '\\' && i+1 < len(line) && strings.IndexByte(`"\$`+"`", line[i+1]) >= 0:
				i++
				cur.WriteByte(line[i])
			default:
				cur.WriteByte(c)
			}
		case c == '\'':
			inS, inWord = true, true
		case c == '"':
			inD, inWord = true, true
		case c == '\\':
			escaped, inWord = true, true
		case c == ' ' || c == '\t' || c == '\n':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}

	if inS || inD || escaped {
		return nil, errors.New("unterminated quote")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}
