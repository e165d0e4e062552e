package otelx

import "os"

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok
}
