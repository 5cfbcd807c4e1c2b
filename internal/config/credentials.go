package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credentials is the OS user login used by GUI tests.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoadCredentials reads the login credentials file. A missing file is a
// configuration error: the message names the path and how it is populated.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf(
				"OS user login credentials not found in file %s: the file is written by the test launcher "+
					"when auto login credentials are available, otherwise create it manually, "+
					`example content: {"username":"user","password":"pw"}`, path)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	if creds.Username == "" {
		return nil, fmt.Errorf("credentials %s: username is required", path)
	}
	return &creds, nil
}
