package main

import (
	"fmt"
	"os"

	"github.com/ChunxuTang/Load-Balancing-Server/service"
)

func main() {
	if err := service.Run(); err != nil {
		fmt.Printf("Balancer exited with error: %s\n", err)
		os.Exit(255)
	}
	fmt.Println("Balancer exited gracefully")
}
