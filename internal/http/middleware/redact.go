package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// digits only, so hex ids are left alone
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Query parameters whose values are bearer-like and never logged.
var secretParams = map[string]struct{}{
	"code":  {},
	"token": {},
}

// redactor scrubs request metadata before it reaches the log.
type redactor struct {
	mask map[string]struct{}
}

func newRedactor(extra []string) redactor {
	mask := map[string]struct{}{
		"authorization":                   {},
		"cookie":                          {},
		"set-cookie":                      {},
		"x-telegram-bot-api-secret-token": {},
	}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	return redactor{mask: mask}
}

func (r redactor) text(s string) string {
	if s == "" {
		return s
	}
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// query scrubs a raw query string. Unparseable input is scrubbed as text.
func (r redactor) query(raw string) string {
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return r.text(raw)
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		_, secret := secretParams[strings.ToLower(k)]
		for _, v := range vals[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			if secret {
				v = "[REDACTED]"
			} else {
				v = r.text(v)
			}
			b.WriteString(k + "=" + v)
		}
	}
	return b.String()
}

func (r redactor) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.mask[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.text(strings.Join(vv, ", "))
	}
	return out
}
