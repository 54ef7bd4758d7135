package main

import "strings"

// reorderInterspersedFlags moves flag tokens ahead of positionals so flag.Parse sees
// every flag, as in `attest ledger verify extra --root r`. valueFlags names the flags
// that take the following token as their value. Tokens after "--" stay positional.
func reorderInterspersedFlags(arguments []string, valueFlags map[string]bool) []string {
	flags, positionals := splitArguments(arguments, valueFlags)
	return append(flags, positionals...)
}

func splitArguments(arguments []string, valueFlags map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(arguments))
	positionals := make([]string, 0, len(arguments))
	awaitingValue := false
	for index, argument := range arguments {
		switch {
		case awaitingValue:
			flags = append(flags, argument)
			awaitingValue = false
		case argument == "--":
			return flags, append(positionals, arguments[index+1:]...)
		case isFlagToken(argument):
			flags = append(flags, argument)
			name, inline := flagName(argument)
			awaitingValue = !inline && valueFlags[name]
		default:
			positionals = append(positionals, argument)
		}
	}
	return flags, positionals
}

func isFlagToken(argument string) bool {
	return len(argument) > 1 && strings.HasPrefix(argument, "-")
}

// flagName strips the dashes and any inline "=value" from a flag token.
func flagName(argument string) (string, bool) {
	name := strings.TrimLeft(argument, "-")
	if before, _, found := strings.Cut(name, "="); found {
		return before, true
	}
	return name, false
}
