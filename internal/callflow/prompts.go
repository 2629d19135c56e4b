package callflow

import "fmt"

const (
	GreetingPrompt = "Welcome to Capital One. I'm Nessie, your virtual banking assistant. " +
		"May I have your first name to get started? I will ask you a few security questions to verify your identity."
	SilencePrompt        = "I didn't hear anything. Could you please repeat that?"
	FollowUpPrompt       = "Is there anything else I can help you with?"
	FatalPrompt          = "I apologize, but I encountered an error. Please try again later. Goodbye."
	UnknownCallerPrompt  = "I'm sorry, I couldn't find an account under that name. Please call back and try again. Goodbye."
	MismatchPrompt       = "That answer didn't match our records. Let's try again."
	ExhaustedPrompt      = "I'm sorry, I wasn't able to verify your identity. For your security, I'm ending this call. Goodbye."
	SilenceLimitPrompt   = "I'm sorry, I still can't hear you. Please call back when you're ready. Goodbye."
	verifiedPromptFormat = "Thank you, %s. You're verified. How can I help you with your account today?"
	identifiedFormat     = "Thanks, %s. %s"
)

func verifiedPrompt(name string) string {
	return fmt.Sprintf(verifiedPromptFormat, name)
}

func firstQuestionPrompt(name, question string) string {
	return fmt.Sprintf(identifiedFormat, name, question)
}
