package directory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Callers []Identity `yaml:"callers"`
}

// LoadFile reads a YAML caller list:
//
//	callers:
//	  - name: Alice
//	    customer_id: 64f...
//	    account_id: 64f...
//	    security_questions:
//	      - question: What is your mother's maiden name?
//	        answer: Johnson
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	return parseFile(data)
}

func parseFile(data []byte) (*Directory, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse directory file: %w", err)
	}
	for i, c := range doc.Callers {
		if Normalize(c.Name) == "" {
			return nil, fmt.Errorf("directory entry %d has no usable name", i)
		}
		if len(c.Questions) == 0 {
			return nil, fmt.Errorf("directory entry %q has no security questions", c.Name)
		}
	}
	return New(doc.Callers), nil
}
