package resolver

// SeedMergeCandidate builds the initial three-pane merge text by wrapping
// the local and server byte content with inline conflict markers
// (spec.md §4.10). The caller presents this to the user for editing and
// later submits the user's edited result as USE_MERGED.
func SeedMergeCandidate(local, server []byte) []byte {
	out := make([]byte, 0, len(local)+len(server)+64)

	out = append(out, "<<<<<<< LOCAL\n"...)
	out = append(out, local...)

	if len(local) == 0 || local[len(local)-1] != '\n' {
		out = append(out, '\n')
	}

	out = append(out, "=======\n"...)
	out = append(out, server...)

	if len(server) == 0 || server[len(server)-1] != '\n' {
		out = append(out, '\n')
	}

	out = append(out, ">>>>>>> SERVER\n"...)

	return out
}
