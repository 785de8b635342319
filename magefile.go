//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/kralicky/tfpool/pkg/logger"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var Default = Build

// Builds all main packages under ./cmd/...
func Build() error {
	return sh.RunV(mg.GoCmd(), "build", fmt.Sprintf("-v=%t", mg.Verbose()), "-o", "bin/", "./cmd/...")
}

type Example mg.Namespace

// Generates a set of sample terraform projects for testing.
func (Example) Projects() error {
	os.RemoveAll("examples/projects")
	projects := []struct {
		name    string
		account string
	}{
		{"sandbox", "111111111111"},
		{"staging", "222222222222"},
		{"prod", "333333333333"},
	}
	for _, p := range projects {
		dir := filepath.Join("examples/projects", p.name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		mainTf := fmt.Sprintf(`
terraform {
  required_providers {
    null = {
      source = "hashicorp/null"
    }
  }
}

provider "aws" {
  assume_role {
    role_arn = "arn:aws:iam::%s:role/deployer"
  }
}

resource "null_resource" "%s" {}
`[1:], p.account, p.name)
		if err := os.WriteFile(filepath.Join(dir, "main.tf"), []byte(mainTf), 0644); err != nil {
			return err
		}
	}
	return nil
}

// Runs all tests
func Test() error {
	return sh.RunV(mg.GoCmd(), "test", "-v", "-race", "./...")
}
