package manifold

import "errors"

// ErrNotBuilt is returned by New when the binary was built without the
// manifold tag.
var ErrNotBuilt = errors.New("manifold kernel not available: build with -tags=manifold")
