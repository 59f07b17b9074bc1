package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PROCURA_TEST_MODE") == "" {
			_ = os.Setenv("PROCURA_TEST_MODE", "1")
		}
	})
}
