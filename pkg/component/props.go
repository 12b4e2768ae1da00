package component

import (
	"strconv"
	"strings"
	"time"
)

// Props are string properties passed to a Factory.
type Props map[string]string

// ParseProps parses "a.b=1,c=two" into Props. Entries without '=' are
// ignored.
func ParseProps(raw string) Props {
	props := Props{}
	for _, entry := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return props
}

// Sub returns the properties under "prefix." with the prefix removed.
func (p Props) Sub(prefix string) Props {
	out := Props{}
	pfx := prefix + "."
	for k, v := range p {
		if rest, ok := strings.CutPrefix(k, pfx); ok {
			out[rest] = v
		}
	}
	return out
}

func (p Props) GetString(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

func (p Props) GetInt(key string, def int) int {
	if v, err := strconv.Atoi(p[key]); err == nil {
		return v
	}
	return def
}

func (p Props) GetFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(p[key], 64); err == nil {
		return v
	}
	return def
}

func (p Props) GetBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(p[key]); err == nil {
		return v
	}
	return def
}

func (p Props) GetDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(p[key]); err == nil {
		return v
	}
	return def
}

// GetList splits a value on ';' and drops empty items. Commas separate
// entries in ParseProps, so lists use semicolons.
func (p Props) GetList(key string) []string {
	var out []string
	for _, item := range strings.Split(p[key], ";") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
