package assistant

// Fixed transcript texts.
const (
	ThinkingPlaceholder = "Thinking through the project structure and requirements..."
	FailureText         = "Sorry, I encountered an error."
	ImagePrefix         = "Generated image: "
)

const (
	planningInstruction = "You are an AI assistant that plans web projects. " +
		"Lay out pages, components, data flow and styling as a clear, numbered plan."
	codingInstruction = "You are an AI assistant that writes production-ready React and TypeScript. " +
		"Answer with complete source files."
)

// PlanningPrompt builds the stage 1 prompt of the two-stage pipeline.
func PlanningPrompt(raw string) string {
	return "Create a detailed plan for: " + raw
}

// CodingPrompt builds the stage 2 prompt from the stage 1 output.
func CodingPrompt(plan string) string {
	return "Based on this plan, generate the complete React/TypeScript code:\nPLAN:\n" + plan
}
