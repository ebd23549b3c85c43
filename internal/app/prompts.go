package app

// defaultChatTitle is used when title generation fails or times out.
const defaultChatTitle = "New Chat"

// titleMarkerFormat is appended to the stream after the final answer
// token so clients can pick up the generated title in-band.
const titleMarkerFormat = "<!-- TITLE_UPDATE:%s -->"

const systemInstruction = `You are a helpful assistant. Answer clearly and concisely, keep track of the conversation so far, and ask for clarification when a request is ambiguous.`

const ragSystemPrompt = `You answer questions strictly from the context provided in the user message. Do not use outside knowledge and do not invent facts, names, or numbers. If the context does not contain the answer, reply exactly: "I don't have enough information to answer that from the provided data."`

const ragUserTemplate = `Context:
%s

Question: %s`

const titleSystemPrompt = `Generate a title of at most 5 words for a conversation that begins with the following user message. Reply with the title only, no quotes and no trailing punctuation.`
