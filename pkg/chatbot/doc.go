// Package chatbot answers chat conversations with an OpenAI chat completion.
// Each request carries the whole conversation; nothing is stored.
package chatbot
