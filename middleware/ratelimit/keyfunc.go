package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UserHeader é o header que a camada de auth preenche com o id do usuário.
const UserHeader = "X-User-Id"

// Anonymous é a chave usada quando o request não traz identificação.
const Anonymous = "anonymous"

type KeyFunc func(r *http.Request) string

// UserKeyFunc usa o id do usuário vindo do header; sem header vira Anonymous.
func UserKeyFunc(header string) KeyFunc {
	if header == "" {
		header = UserHeader
	}
	return firstKey(fromHeader(header))
}

// DefaultKeyFunc identifica o cliente por header (se configurado), depois pelo
// primeiro IP do X-Forwarded-For (só com trustXFF) e por fim pelo RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	var sources []KeyFunc
	if keyHeader != "" {
		sources = append(sources, fromHeader(keyHeader))
	}
	if trustXFF {
		sources = append(sources, forwardedFor)
	}
	return firstKey(append(sources, remoteHost)...)
}

func firstKey(sources ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		for _, src := range sources {
			if k := src(r); k != "" {
				return k
			}
		}
		return Anonymous
	}
}

func fromHeader(name string) KeyFunc {
	return func(r *http.Request) string { return strings.TrimSpace(r.Header.Get(name)) }
}

func forwardedFor(r *http.Request) string {
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	return strings.TrimSpace(first)
}

func remoteHost(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
