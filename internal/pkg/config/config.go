package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Fleet struct {
		Prefix   string   `yaml:"prefix"`    // container name prefix, workloads are <prefix>-<trial_id>
		Image    string   `yaml:"image"`     // simulation image
		Command  []string `yaml:"command"`   // container command
		BasePort int      `yaml:"base_port"` // published port = base_port + trial_id
		VNCPort  int      `yaml:"vnc_port"`  // container-side noVNC port
		DataDir  string   `yaml:"data_dir"`  // host dir holding trial_<id> data dirs
		MountDir string   `yaml:"mount_dir"` // container-side path the data dir is bound to
	} `yaml:"fleet"`
	Reconstruction struct {
		Python     string `yaml:"python"`
		Script     string `yaml:"script"`
		Workdir    string `yaml:"workdir"`
		ResultsDir string `yaml:"results_dir"`
	} `yaml:"reconstruction"`
	Auth struct {
		Username     string `yaml:"username"`
		PasswordHash string `yaml:"password_hash"` // bcrypt hash
		JWTSecret    string `yaml:"jwt_secret"`
		Expiration   string `yaml:"expiration"` // Go duration, e.g. 24h
	} `yaml:"auth"`
}

func LoadConfig(filePath string) (*Config, error) {
	config := &Config{}
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) setDefaults() {
	if c.Fleet.Prefix == "" {
		c.Fleet.Prefix = "aquatic-trial"
	}
	if c.Fleet.Image == "" {
		c.Fleet.Image = "aquatic-sim:latest"
	}
	if len(c.Fleet.Command) == 0 {
		c.Fleet.Command = []string{"mission"}
	}
	if c.Fleet.BasePort == 0 {
		c.Fleet.BasePort = 6080
	}
	if c.Fleet.VNCPort == 0 {
		c.Fleet.VNCPort = 6080
	}
	if c.Fleet.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.Fleet.DataDir = filepath.Join(home, "workspaces/aquatic-mapping/src/sampling/data/missions")
	}
	if c.Fleet.MountDir == "" {
		c.Fleet.MountDir = "/home/simuser/aquatic-mapping/src/sampling/data/missions"
	}
	if c.Reconstruction.Workdir == "" {
		home, _ := os.UserHomeDir()
		c.Reconstruction.Workdir = filepath.Join(home, "workspaces/aquatic-mapping/reconstruction")
	}
	if c.Reconstruction.Python == "" {
		c.Reconstruction.Python = filepath.Join(c.Reconstruction.Workdir, "venv/bin/python")
	}
	if c.Reconstruction.Script == "" {
		c.Reconstruction.Script = filepath.Join(c.Reconstruction.Workdir, "run_reconstruction.py")
	}
	if c.Reconstruction.ResultsDir == "" {
		c.Reconstruction.ResultsDir = filepath.Join(c.Reconstruction.Workdir, "results")
	}
	if c.Auth.Expiration == "" {
		c.Auth.Expiration = "24h"
	}
}

func (c *Config) validate() error {
	if c.Auth.Username == "" || c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.username and auth.password_hash are required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}
