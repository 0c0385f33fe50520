package app

// User-facing texts. They are fixed so that callers and tests can match
// them exactly.
const (
	NoticeGreeting         = "Hi! I am a bot backed by ChatGPT. Send me a message or a photo."
	NoticeUnsupported      = "Please send text or a photo."
	NoticeQuotaExceeded    = "You have reached the daily message limit. Please try again later."
	NoticeNothingToSend    = "No messages to send."
	NoticeCompletionFailed = "Error getting a response."
	NoticePhotoReceived    = "You sent a photo!"
	NoticeImageFailed      = "Failed to process the image."
	NoticeVisionFailed     = "Failed to process the image with the model."
	NoticeStoreFailed      = "Something went wrong. Please try again later."

	NoticeHelp = "Send me text and I will answer using the conversation so far.\n" +
		"Send a photo, optionally with a caption, and I will describe it.\n" +
		"/start clears the conversation, /quota shows your remaining messages.\n" +
		"Any other command is sent to the model as a normal message and counts toward your limit."

	DefaultImagePrompt = "What is in the image?"
)
