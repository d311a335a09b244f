package echo

const (
	kBuffSize = 16 * 1024
	kBacklog  = 128
)

type Config struct {
	ListenAddr string
	ListenPort int
	Backlog    int
	// IdleTimeout closes a connection that neither reads nor writes for that
	// many seconds. 0 disables it.
	IdleTimeout float64
	BufferSize  int
}

func NewConfig(la string, lp int, idle float64) Config {
	return Config{
		ListenAddr:  la,
		ListenPort:  lp,
		Backlog:     kBacklog,
		IdleTimeout: idle,
		BufferSize:  kBuffSize,
	}
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1"
	}
	if c.Backlog <= 0 {
		c.Backlog = kBacklog
	}
	if c.BufferSize <= 0 {
		c.BufferSize = kBuffSize
	}
	return c
}
