package local

// SetBeforeRename installs a hook that runs between the temp write and the rename.
func SetBeforeRename(s *NetworkStore, fn func(tmpPath string) error) {
	s.beforeRename = fn
}
