package main

import (
	"github.com/joho/godotenv"

	gpuscheduler "github.com/causalai/gpu-scheduler/api/cmd/gpu-scheduler"
)

func main() {
	_ = godotenv.Load()
	gpuscheduler.Execute()
}
