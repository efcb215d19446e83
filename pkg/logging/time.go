package logging

import "time"

// nowFunc is swappable in tests that need a deterministic clock.
var nowFunc = time.Now
