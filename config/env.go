package config

import (
	"os"
	"strconv"
	"time"
)

// envParse sobrescreve *dst com a variável k quando ela existe e faz parse.
// Valor inválido é ignorado e o valor atual fica. Devolve se aplicou.
func envParse[T any](dst *T, k string, parse func(string) (T, error)) bool {
	raw, ok := os.LookupEnv(k)
	if !ok || raw == "" {
		return false
	}
	v, err := parse(raw)
	if err != nil {
		return false
	}
	*dst = v
	return true
}

func envString(dst *string, k string) {
	envParse(dst, k, func(s string) (string, error) { return s, nil })
}

func envInt(dst *int, k string) { envParse(dst, k, strconv.Atoi) }

func envFloat(dst *float64, k string) {
	envParse(dst, k, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func envBool(dst *bool, k string) bool { return envParse(dst, k, strconv.ParseBool) }

func envDuration(dst *time.Duration, k string) { envParse(dst, k, time.ParseDuration) }
