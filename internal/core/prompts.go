package core

import "fmt"

const (
	chatSystemInstruction = "You are a professional tattoo artist and AI assistant for a tattoo stencil studio. " +
		"Help users create and refine tattoo stencil designs. Provide specific, actionable advice on:\n" +
		"- Tattoo composition and design elements\n" +
		"- Line work and style recommendations\n" +
		"- Size and placement suggestions\n" +
		"- Technical considerations for tattooing\n" +
		"- Style adaptations (traditional, neo-traditional, realistic, etc.)\n\n" +
		"Be encouraging and professional. Focus on creating designs that will translate well to tattoo stencils."

	analysisSystemInstruction = "You are a professional tattoo artist and AI assistant specializing in tattoo stencil design. " +
		"Analyze images and help users refine their tattoo concepts with expert advice on composition, style, placement, and artistic elements. " +
		"Always provide specific, actionable suggestions for improving tattoo designs."

	promptSystemInstruction = "You are an expert at creating detailed prompts for AI image generation specifically for tattoo stencils. " +
		"Create a detailed, technical prompt that will generate high-quality tattoo stencil designs.\n\n" +
		"Focus on:\n" +
		"- Clean, bold line work suitable for tattooing\n" +
		"- Professional tattoo art style\n" +
		"- Black and white stencil format\n" +
		"- Proper composition and flow\n" +
		"- Technical details that ensure the design works as a tattoo\n\n" +
		"Return only the refined prompt without explanations."

	defaultAnalysisRequest = "Please analyze this tattoo design and provide professional suggestions for creating a tattoo stencil. " +
		"Consider composition, line work, style, and any improvements that would make this a better tattoo."

	emptyAnalysisReply = "I couldn't analyze the image. Please try again."
)

func analysisRequest(userPrompt string) string {
	if userPrompt == "" {
		return defaultAnalysisRequest
	}
	return "Please analyze this tattoo design and help me with: " + userPrompt
}

func enhancementRequest(userPrompt string) string {
	return "User request: " + userPrompt
}

// stencilPrompt appends the fixed stencil qualifiers to the enhanced prompt.
func stencilPrompt(prompt string, settings GenerationSettings) string {
	return fmt.Sprintf("Professional tattoo stencil design, %s, black and white line art, bold clean lines, "+
		"%s tattoo style, %s line weight, high contrast, suitable for tattooing, detailed line work, "+
		"professional tattoo flash art style", prompt, settings.Style, settings.LineWeight)
}
