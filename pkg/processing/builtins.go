package processing

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/api3dao/commons-go/pkg/logger"
)

const maxRandomBytes = 1024

// Builtins lists the globals exposed to every snippet. Timers are added
// separately and only for asynchronous invocations.
var Builtins = []string{"console", "crypto", "dns", "fs", "os", "path", "process", "url", "util"}

func (e *Executor) installBuiltins(ctx context.Context, vm *goja.Runtime) error {
	modules := map[string]interface{}{
		"console": consoleModule(ctx, e.logger),
		"crypto":  cryptoModule(),
		"dns":     dnsModule(),
		"fs":      fsModule(),
		"os":      osModule(),
		"path":    pathModule(),
		"process": processModule(),
		"url":     urlModule(),
		"util":    utilModule(),
	}
	for _, name := range Builtins {
		if err := vm.Set(name, modules[name]); err != nil {
			return fmt.Errorf("failed to install %s: %w", name, err)
		}
	}
	return nil
}

func consoleModule(ctx context.Context, log *logger.Logger) map[string]interface{} {
	line := func(args []interface{}) string {
		parts := make([]string, len(args))
		for i, arg := range args {
			parts[i] = formatArg(arg)
		}
		return strings.Join(parts, " ")
	}
	return map[string]interface{}{
		"log":   func(args ...interface{}) { log.Info(ctx, line(args)) },
		"info":  func(args ...interface{}) { log.Info(ctx, line(args)) },
		"debug": func(args ...interface{}) { log.Debug(ctx, line(args)) },
		"warn":  func(args ...interface{}) { log.Warn(ctx, line(args)) },
		"error": func(args ...interface{}) { log.Error(ctx, line(args), nil) },
	}
}

func cryptoModule() map[string]interface{} {
	return map[string]interface{}{
		"sha256": func(data string) string {
			sum := sha256.Sum256([]byte(data))
			return hex.EncodeToString(sum[:])
		},
		"keccak256": func(data string) string {
			h := sha3.NewLegacyKeccak256()
			h.Write([]byte(data))
			return "0x" + hex.EncodeToString(h.Sum(nil))
		},
		"randomBytes": func(n int) (string, error) {
			if n < 0 || n > maxRandomBytes {
				return "", fmt.Errorf("randomBytes size must be between 0 and %d", maxRandomBytes)
			}
			buf := make([]byte, n)
			if _, err := rand.Read(buf); err != nil {
				return "", err
			}
			return hex.EncodeToString(buf), nil
		},
		"randomUUID": func() string {
			return uuid.NewString()
		},
	}
}

func dnsModule() map[string]interface{} {
	return map[string]interface{}{
		"lookup": func(host string) ([]string, error) {
			return net.LookupHost(host)
		},
	}
}

func fsModule() map[string]interface{} {
	return map[string]interface{}{
		"readFileSync": func(path string) (string, error) {
			data, err := os.ReadFile(path)
			return string(data), err
		},
		"writeFileSync": func(path, data string) error {
			return os.WriteFile(path, []byte(data), 0o644)
		},
		"existsSync": func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

func osModule() map[string]interface{} {
	return map[string]interface{}{
		"EOL":      "\n",
		"hostname": os.Hostname,
		"platform": func() string { return runtime.GOOS },
		"tmpdir":   os.TempDir,
	}
}

func pathModule() map[string]interface{} {
	return map[string]interface{}{
		"sep":      string(filepath.Separator),
		"join":     filepath.Join,
		"basename": filepath.Base,
		"dirname":  filepath.Dir,
		"extname":  filepath.Ext,
		"isAbsolute": func(path string) bool {
			return filepath.IsAbs(path)
		},
	}
}

func processModule() map[string]interface{} {
	env := make(map[string]interface{})
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}
	return map[string]interface{}{
		"env":      env,
		"pid":      os.Getpid(),
		"platform": runtime.GOOS,
		"cwd":      os.Getwd,
	}
}

func urlModule() map[string]interface{} {
	return map[string]interface{}{
		"parse": func(raw string) (map[string]interface{}, error) {
			u, err := url.Parse(raw)
			if err != nil {
				return nil, err
			}
			result := map[string]interface{}{
				"href":     u.String(),
				"protocol": u.Scheme + ":",
				"host":     u.Host,
				"hostname": u.Hostname(),
				"port":     u.Port(),
				"pathname": u.Path,
				"search":   "",
				"hash":     "",
			}
			if u.RawQuery != "" {
				result["search"] = "?" + u.RawQuery
			}
			if u.Fragment != "" {
				result["hash"] = "#" + u.Fragment
			}
			return result, nil
		},
	}
}

func utilModule() map[string]interface{} {
	return map[string]interface{}{
		"format": utilFormat,
		"inspect": func(v interface{}) string {
			return formatArg(v)
		},
	}
}

// utilFormat supports the %s, %d, %i, %f, %j, %o and %O directives. Extra
// arguments are appended separated by spaces.
func utilFormat(format string, args ...interface{}) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		verb := format[i+1]
		if verb == '%' {
			b.WriteByte('%')
			i++
			continue
		}
		if next >= len(args) || !strings.ContainsRune("sdifjoO", rune(verb)) {
			b.WriteByte(c)
			continue
		}
		arg := args[next]
		next++
		i++
		switch verb {
		case 's':
			b.WriteString(fmt.Sprint(arg))
		case 'd', 'i':
			b.WriteString(fmt.Sprint(toInteger(arg)))
		case 'f':
			b.WriteString(fmt.Sprint(arg))
		default:
			b.WriteString(formatArg(arg))
		}
	}
	for ; next < len(args); next++ {
		b.WriteByte(' ')
		b.WriteString(formatArg(args[next]))
	}
	return b.String()
}

func toInteger(v interface{}) interface{} {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return v
	}
}

func formatArg(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
