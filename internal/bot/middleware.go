package bot

// withRecovery runs handler and reports false if it panicked.
func (b *Bot) withRecovery(handler func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	handler()
	return true
}
