// warcctl — операторская утилита WARC Manager.
// Работает напрямую с PostgreSQL (и Redis, если задан WM_REDIS_ADDR) через
// тот же сервисный слой, что и HTTP API: check, confirm, progress, recent,
// migrate, grant.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
