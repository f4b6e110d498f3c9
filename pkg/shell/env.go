package shell

import (
	"os"
	"strings"
)

// ReplaceEnvVars expands ${VAR} and ${VAR:default} references. Unknown
// variables without a default are left untouched.
func ReplaceEnvVars(text string) string {
	var b strings.Builder

	for {
		i := strings.Index(text, "${")
		if i < 0 {
			break
		}
		n := strings.IndexByte(text[i:], '}')
		if n < 0 {
			break
		}

		b.WriteString(text[:i])
		ref := text[i : i+n+1]
		key := ref[2 : len(ref)-1]
		text = text[i+n+1:]

		var def string
		var hasDef bool
		if j := strings.IndexByte(key, ':'); j > 0 {
			key, def, hasDef = key[:j], key[j+1:], true
		}

		switch value, ok := os.LookupEnv(key); {
		case ok:
			b.WriteString(value)
		case hasDef:
			b.WriteString(def)
		default:
			b.WriteString(ref)
		}
	}

	b.WriteString(text)
	return b.String()
}
