package vault

// BiometricAvailability reports what the platform biometric capability
// can offer right now.
type BiometricAvailability int

const (
	BiometricAvailable BiometricAvailability = iota
	BiometricNoHardware
	BiometricNotEnrolledOnDevice
	BiometricTemporarilyUnavailable
)

// BiometricOutcome is the result of one authentication prompt.
type BiometricOutcome int

const (
	BiometricSuccess BiometricOutcome = iota
	BiometricCancelled
	BiometricError
)

// BiometricResult carries the prompt outcome; Message is set only for
// BiometricError.
type BiometricResult struct {
	Outcome BiometricOutcome
	Message string
}

// BiometricPrompt configures the platform authentication dialog.
type BiometricPrompt struct {
	Title    string
	Subtitle string
}

// BiometricAuthenticator is the platform biometric collaborator. The
// vault consumes only the outcome; prompt UI, sensors and OS policy
// all live behind this interface.
type BiometricAuthenticator interface {
	CheckAvailability() BiometricAvailability
	Authenticate(prompt BiometricPrompt) BiometricResult
}
