package protocol

// Equal reports whether two mails are the same logical mail for
// forward-matching purposes. Sender, title and body compare as plain
// strings; the receiver lists compare as multisets, so order is
// irrelevant but per-address counts are not: [A,A,B] and [A,B] are
// different mails even though they cover the same set of addresses.
func (m Mail) Equal(o Mail) bool {
	if m.SenderEmail != o.SenderEmail || m.Title != o.Title || m.Body != o.Body {
		return false
	}
	return sameWithCounts(m.Receivers, o.Receivers)
}

func sameWithCounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, r := range a {
		counts[r]++
	}
	for _, r := range b {
		counts[r]--
		if counts[r] < 0 {
			return false
		}
	}
	return true
}
