package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Gfermoto/Repetier-Server/printer"
)

// Load reads one printer's hierarchical config file: dotted [section]
// headers (`[printer]`, `[printer.connection]`, ...) and [include path]
// directives, grounded on AndySze-klipper's pkg/config parseFile.
func Load(path string) (*printer.Config, error) {
	sections, err := parseFile(path, make(map[string]bool))
	if err != nil {
		return nil, err
	}
	return buildConfig(sections)
}

// LoadString parses config text directly, for tests. Includes are resolved
// relative to the current working directory.
func LoadString(data string) (*printer.Config, error) {
	sections, err := scan(strings.NewReader(data), ".", make(map[string]bool))
	if err != nil {
		return nil, err
	}
	return buildConfig(sections)
}

// parseFile opens path and scans it, following [include] directives
// relative to its directory. visited guards against include cycles the
// same way AndySze-klipper's parseFile does.
func parseFile(path string, visited map[string]bool) (map[string]*section, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return nil, fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	return scan(f, filepath.Dir(abs), visited)
}

// scan reads dotted [section] blocks and one synthetic top-level section
// ("") holding any key=value pair that precedes the first header — spec.md
// lists `active` outside the printer.* namespace, so unlike
// AndySze-klipper's parseFile (which discards pre-section options), those
// lines are kept rather than skipped.
func scan(r io.Reader, baseDir string, visited map[string]bool) (map[string]*section, error) {
	sections := map[string]*section{"": newSection("")}
	current := sections[""]

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return nil, fmt.Errorf("config: line %d: empty section header", lineNum)
			}

			if strings.HasPrefix(header, "include ") {
				spec := strings.TrimSpace(header[len("include "):])
				if spec == "" {
					return nil, fmt.Errorf("config: line %d: empty include", lineNum)
				}
				glob := filepath.Join(baseDir, spec)
				matches, err := filepath.Glob(glob)
				if err != nil {
					return nil, fmt.Errorf("config: line %d: invalid include pattern %q: %w", lineNum, spec, err)
				}
				if len(matches) == 0 {
					return nil, fmt.Errorf("config: line %d: include file does not exist: %s", lineNum, glob)
				}
				sort.Strings(matches)
				for _, m := range matches {
					included, err := parseFile(m, visited)
					if err != nil {
						return nil, err
					}
					mergeSections(sections, included)
				}
				continue
			}

			name := strings.ToLower(header)
			sec, ok := sections[name]
			if !ok {
				sec = newSection(name)
				sections[name] = sec
			}
			current = sec
			continue
		}

		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			kv = strings.SplitN(line, ":", 2)
		}
		if len(kv) != 2 {
			return nil, fmt.Errorf("config: line %d: expected key=value", lineNum)
		}
		current.set(strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return sections, nil
}

// mergeSections folds an included file's sections into dst. Keys already
// present in dst win, so a file can [include] a shared preset and still
// override individual keys afterward.
func mergeSections(dst, src map[string]*section) {
	for name, s := range src {
		existing, ok := dst[name]
		if !ok {
			existing = newSection(name)
			dst[name] = existing
		}
		for k, v := range s.options {
			if _, already := existing.options[k]; !already {
				existing.options[k] = v
			}
		}
	}
}

// sectionOrEmpty returns the named section, or an empty placeholder so a
// missing [section] block still reports individual ErrMissingOption keys
// rather than a nil pointer.
func sectionOrEmpty(sections map[string]*section, name string) *section {
	if s, ok := sections[name]; ok {
		return s
	}
	return newSection(name)
}

// buildConfig maps the dotted printer.* namespace spec.md §6 requires onto
// printer.Config. Every key it reads is required: no fallback is passed to
// the section getters, so a missing key is a fatal ConfigError, matching
// spec.md's "any missing key ⇒ fatal load error".
func buildConfig(sections map[string]*section) (*printer.Config, error) {
	top := sectionOrEmpty(sections, "")
	base := sectionOrEmpty(sections, "printer")
	conn := sectionOrEmpty(sections, "printer.connection")
	dim := sectionOrEmpty(sections, "printer.dimension")
	home := sectionOrEmpty(sections, "printer.homing")
	extruder := sectionOrEmpty(sections, "printer.extruder")
	speed := sectionOrEmpty(sections, "printer.speed")

	cfg := &printer.Config{}
	var err error

	if cfg.Name, err = base.GetString("name"); err != nil {
		return nil, err
	}
	if cfg.Slug, err = base.GetString("slugName"); err != nil {
		return nil, err
	}

	if cfg.DevicePath, err = conn.GetString("device"); err != nil {
		return nil, err
	}
	if cfg.Baudrate, err = conn.GetInt("baudrate"); err != nil {
		return nil, err
	}
	if cfg.PingPong, err = conn.GetBool("pingPong"); err != nil {
		return nil, err
	}
	cacheSize, err := conn.GetInt("readCacheSize")
	if err != nil {
		return nil, err
	}
	cfg.ReceiveCacheSize = uint16(cacheSize)
	protocol, err := conn.GetString("protocol")
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(protocol) {
	case "ascii":
		cfg.BinaryProtocol = false
	case "binary":
		cfg.BinaryProtocol = true
	default:
		return nil, ErrInvalidValue(conn.name, "protocol", protocol, `"ascii" or "binary"`)
	}
	if cfg.OkAfterResend, err = conn.GetBool("okAfterResend"); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		sec *section
		key string
		dst *float64
	}{
		{dim, "xmin", &cfg.XMin}, {dim, "ymin", &cfg.YMin}, {dim, "zmin", &cfg.ZMin},
		{dim, "xmax", &cfg.XMax}, {dim, "ymax", &cfg.YMax}, {dim, "zmax", &cfg.ZMax},
		{home, "xhome", &cfg.HomeX}, {home, "yhome", &cfg.HomeY}, {home, "zhome", &cfg.HomeZ},
		{speed, "xaxis", &cfg.SpeedX}, {speed, "yaxis", &cfg.SpeedY}, {speed, "zaxis", &cfg.SpeedZ},
		{speed, "eaxisExtrude", &cfg.SpeedEExtrude}, {speed, "eaxisRetract", &cfg.SpeedERetract},
	} {
		v, err := f.sec.GetFloat(f.key)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	if cfg.ExtruderCount, err = extruder.GetInt("count"); err != nil {
		return nil, err
	}
	if cfg.Active, err = top.GetBool("active"); err != nil {
		return nil, err
	}

	return cfg, nil
}
