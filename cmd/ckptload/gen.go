package main

//go:generate env GOOS=linux GOARCH=riscv64 CGO_ENABLED=0 go build -ldflags=-T=0x2000000000 -o ckptload .
