package broker

type Credentials struct {
	UserID    string `yaml:"user_id"`
	AccountID string `yaml:"account_id"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Token     string `yaml:"token"`
}
