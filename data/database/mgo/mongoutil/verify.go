package mongoutil

import (
	"strings"

	"SocialChat/tools/errs"
)

// ValidateAndSetDefaults 校验并补默认值；Uri 与 Address 同时给出时以 Uri 为准
func (c *Config) ValidateAndSetDefaults() error {
	c.Uri = strings.TrimSpace(c.Uri)
	switch {
	case c.Uri == "" && len(c.Address) == 0:
		return errs.New("mongo: MONGO_URI is empty and no address given")
	case c.Uri != "" && !strings.HasPrefix(c.Uri, "mongodb://") && !strings.HasPrefix(c.Uri, "mongodb+srv://"):
		return errs.New("mongo: uri must start with mongodb:// or mongodb+srv://", "uri", c.Uri)
	case c.Database == "":
		return errs.New("mongo: database name is required")
	case c.Username == "" && c.Password != "":
		return errs.New("mongo: password given without username")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Username != "" && c.AuthSource == "" {
		c.AuthSource = defaultAuthSource
	}
	if c.Uri == "" {
		c.Uri = buildMongoURI(c)
	}
	return nil
}
