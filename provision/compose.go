// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// File names inside the provisioner's working directory.
const (
	ComposeFileName = "compose.yaml"
	StateFileName   = "provision.yaml"
	DataDirName     = "data"
)

// Homeserver container defaults.
const (
	DefaultImage         = "ghcr.io/continuwuity/continuwuity:latest"
	DefaultContainerName = "switchboard-homeserver"

	serviceName   = "homeserver"
	containerPort = 6167
	containerData = "/var/lib/continuwuity"

	// tokenVariable is interpolated by docker compose from the
	// environment Start passes to Up, so the token never appears in
	// compose.yaml.
	tokenVariable = "SWITCHBOARD_REGISTRATION_TOKEN"
)

type composeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image         string             `yaml:"image"`
	ContainerName string             `yaml:"container_name"`
	Restart       string             `yaml:"restart"`
	Ports         []string           `yaml:"ports"`
	Volumes       []string           `yaml:"volumes"`
	Environment   map[string]string  `yaml:"environment"`
	Healthcheck   composeHealthcheck `yaml:"healthcheck"`
}

type composeHealthcheck struct {
	Test     []string `yaml:"test"`
	Interval string   `yaml:"interval"`
	Timeout  string   `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
}

// renderCompose returns the compose.yaml for params. The data directory
// is bind-mounted relative to the compose file.
func renderCompose(params Params, containerName string) ([]byte, error) {
	image := params.Image
	if image == "" {
		image = DefaultImage
	}
	environment := map[string]string{
		"CONTINUWUITY_SERVER_NAME":        params.ServerName,
		"CONTINUWUITY_DATABASE_PATH":      containerData,
		"CONTINUWUITY_ADDRESS":            "0.0.0.0",
		"CONTINUWUITY_PORT":               fmt.Sprint(containerPort),
		"CONTINUWUITY_ALLOW_REGISTRATION": "true",
		"CONTINUWUITY_REGISTRATION_TOKEN": "${" + tokenVariable + ":?registration token required}",
		"CONTINUWUITY_ALLOW_FEDERATION":   fmt.Sprint(params.AllowFederation),
	}
	file := composeFile{
		Name: "switchboard",
		Services: map[string]composeService{
			serviceName: {
				Image:         image,
				ContainerName: containerName,
				Restart:       "unless-stopped",
				Ports:         []string{fmt.Sprintf("127.0.0.1:%d:%d", params.Port, containerPort)},
				Volumes:       []string{"./" + DataDirName + ":" + containerData},
				Environment:   environment,
				Healthcheck: composeHealthcheck{
					Test:     []string{"CMD", "curl", "-fsS", fmt.Sprintf("http://localhost:%d/_matrix/client/versions", containerPort)},
					Interval: "5s",
					Timeout:  "3s",
					Retries:  12,
				},
			},
		},
	}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return nil, fmt.Errorf("encoding compose file: %w", err)
	}
	return append([]byte("# Generated by switchboard. Edits are overwritten by configure.\n"), data...), nil
}
